package admin_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/site-monitor/internal/admin"
	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/scheduler"
	"github.com/angeloszaimis/site-monitor/internal/site"
	"github.com/angeloszaimis/site-monitor/internal/storage"
)

type fakeMonitor struct {
	stops atomic.Int32
}

func (f *fakeMonitor) Snapshot() scheduler.Status {
	return scheduler.Status{
		Running: f.stops.Load() == 0,
		Sites:   []site.Status{{Name: "games", TotalSamples: 7}},
	}
}

func (f *fakeMonitor) Stop() { f.stops.Add(1) }

type fakeHistory struct {
	samples []outcome.Sample
	err     error
	site    string
	limit   int
}

func (f *fakeHistory) Recent(_ context.Context, siteName string, limit int) ([]outcome.Sample, error) {
	f.site, f.limit = siteName, limit
	return f.samples, f.err
}

var _ = Describe("Handler", func() {
	var (
		e       *echo.Echo
		monitor *fakeMonitor
		history *fakeHistory
		stopped bool
	)

	serve := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	BeforeEach(func() {
		monitor = &fakeMonitor{}
		history = &fakeHistory{samples: []outcome.Sample{{ID: "1", Site: "games", Kind: outcome.KindSuccess}}}
		stopped = false

		h := admin.New(monitor, "letmein",
			admin.WithHistory(history),
			admin.WithBreakers(func() map[string]string { return map[string]string{"mysql": "OPEN"} }),
			admin.WithStopHook(func() { stopped = true }),
		)
		e = echo.New()
		e.GET("/health", h.Health)
		e.GET("/status", h.Status)
		e.GET("/stop", h.Stop)
		e.GET("/history/:site", h.History)
	})

	It("should report liveness", func() {
		rec := serve("/health")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"ok"`))
	})

	Describe("/status", func() {
		It("should acknowledge without the password", func() {
			rec := serve("/status?pass=wrong")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("You contacted the STATUS endpoint."))
		})

		It("should report the monitor state with the password", func() {
			rec := serve("/status?pass=letmein")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body admin.StatusResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Running).To(BeTrue())
			Expect(body.Sites).To(ConsistOf(HaveField("TotalSamples", int64(7))))
			Expect(body.Breakers).To(HaveKeyWithValue("mysql", "OPEN"))
		})
	})

	Describe("/stop", func() {
		It("should ignore requests without the password", func() {
			rec := serve("/stop")
			Expect(rec.Body.String()).To(Equal("You contacted the STOP endpoint."))
			Expect(monitor.stops.Load()).To(BeZero())
			Expect(stopped).To(BeFalse())
		})

		It("should stop the monitor with the password", func() {
			rec := serve("/stop?pass=letmein")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(monitor.stops.Load()).To(Equal(int32(1)))
			Expect(stopped).To(BeTrue())
		})
	})

	Describe("/history", func() {
		It("should require the password", func() {
			Expect(serve("/history/games").Code).To(Equal(http.StatusUnauthorized))
		})

		It("should return samples for the site", func() {
			rec := serve("/history/games?pass=letmein&limit=5000")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var samples []outcome.Sample
			Expect(json.Unmarshal(rec.Body.Bytes(), &samples)).To(Succeed())
			Expect(samples).To(HaveLen(1))
			Expect(history.site).To(Equal("games"))
			Expect(history.limit).To(Equal(1000))
		})

		It("should reject a bad limit", func() {
			Expect(serve("/history/games?pass=letmein&limit=abc").Code).To(Equal(http.StatusBadRequest))
		})

		It("should report unavailable storage", func() {
			history.err = storage.ErrUnavailable
			Expect(serve("/history/games?pass=letmein").Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("should hide storage errors", func() {
			history.err = errors.New("disk on fire")
			rec := serve("/history/games?pass=letmein")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).NotTo(ContainSubstring("disk on fire"))
		})
	})

	It("should disable protected endpoints without a configured password", func() {
		h := admin.New(monitor, "")
		e = echo.New()
		e.GET("/stop", h.Stop)

		Expect(serve("/stop?pass=").Body.String()).To(Equal("You contacted the STOP endpoint."))
		Expect(monitor.stops.Load()).To(BeZero())
	})
})
