package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/site-monitor/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var registry *circuitbreaker.Registry

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(2, time.Minute)
	})

	It("should return the same breaker for a name", func() {
		Expect(registry.GetBreaker("mysql")).To(BeIdenticalTo(registry.GetBreaker("mysql")))
		Expect(registry.GetBreaker("mysql")).NotTo(BeIdenticalTo(registry.GetBreaker("mongodb")))
	})

	It("should be safe for concurrent use", func() {
		var wg sync.WaitGroup
		results := make([]*circuitbreaker.CircuitBreaker, 20)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = registry.GetBreaker("sqlite")
			}(i)
		}
		wg.Wait()

		for _, cb := range results {
			Expect(cb).To(BeIdenticalTo(results[0]))
		}
	})

	It("should report states by name", func() {
		cb := registry.GetBreaker("mysql")
		cb.RecordFailure()
		cb.RecordFailure()
		registry.GetBreaker("sqlite")

		Expect(registry.Stats()).To(Equal(map[string]string{
			"mysql":  "OPEN",
			"sqlite": "CLOSED",
		}))
	})
})
