package probe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/site-monitor/internal/probe"
)

var _ = Describe("HTTPProber", func() {
	var (
		site      *httptest.Server
		userAgent string
	)

	BeforeEach(func() {
		site = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userAgent = r.UserAgent()
			switch r.URL.Path {
			case "/ok":
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("<html>welcome to enginesis</html>"))
			case "/down":
				w.WriteHeader(http.StatusServiceUnavailable)
			case "/slow":
				time.Sleep(300 * time.Millisecond)
				w.Write([]byte("late"))
			case "/large":
				w.Write([]byte(strings.Repeat("a", 4096)))
			}
		}))
	})

	AfterEach(func() {
		site.Close()
	})

	Describe("New", func() {
		It("should fall back to the default timeout", func() {
			p := probe.New(0)
			Expect(p.Timeout()).To(Equal(probe.DefaultTimeout))
		})

		It("should keep an explicit timeout", func() {
			p := probe.New(2 * time.Second)
			Expect(p.Timeout()).To(Equal(2 * time.Second))
		})
	})

	Describe("Probe", func() {
		It("should return status, body and elapsed time", func() {
			p := probe.New(time.Second, probe.WithUserAgent("monitor-test"))

			res := p.Probe(context.Background(), site.URL+"/ok")

			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.StatusCode).To(Equal(http.StatusOK))
			Expect(res.Body).To(ContainSubstring("enginesis"))
			Expect(res.Elapsed).To(BeNumerically(">", 0))
			Expect(res.CompletedAt).To(BeTemporally(">=", res.StartedAt))
			Expect(userAgent).To(Equal("monitor-test"))
		})

		It("should report non-200 responses without an error", func() {
			res := probe.New(time.Second).Probe(context.Background(), site.URL+"/down")

			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})

		It("should enforce the timeout", func() {
			res := probe.New(50*time.Millisecond).Probe(context.Background(), site.URL+"/slow")

			Expect(res.Err).To(HaveOccurred())
			Expect(res.StatusCode).To(BeZero())
			Expect(res.Elapsed).To(BeNumerically("<", 300*time.Millisecond))
		})

		It("should report connection failures as errors", func() {
			addr := site.URL
			site.Close()

			res := probe.New(time.Second).Probe(context.Background(), addr+"/ok")

			Expect(res.Err).To(HaveOccurred())
			Expect(res.StatusCode).To(BeZero())
		})

		It("should reject malformed URLs", func() {
			res := probe.New(time.Second).Probe(context.Background(), "http://[::1")

			Expect(res.Err).To(HaveOccurred())
		})

		It("should cap the body size", func() {
			p := probe.New(time.Second, probe.WithMaxBodyBytes(16))

			res := p.Probe(context.Background(), site.URL+"/large")

			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Body).To(HaveLen(16))
		})
	})
})
