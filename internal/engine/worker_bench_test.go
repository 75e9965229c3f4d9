package engine

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func BenchmarkWorkerPool(b *testing.B) {
	for _, size := range []int{1, 4, 16, 64} {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			pool := NewWorkerPool(size, nil)
			defer pool.Shutdown(context.Background())
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = pool.Submit(ctx, func(ctx context.Context) error {
					time.Sleep(time.Microsecond)
					return nil
				})
			}
			pool.Wait()
		})
	}
}

func BenchmarkCircuitBreaker_Allow(b *testing.B) {
	r := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if r.Allow("generator") == nil {
				r.RecordSuccess("generator")
			}
		}
	})
}
