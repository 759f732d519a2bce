package outcome_test

import (
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/probe"
)

var _ = Describe("Classify", func() {
	var (
		policy outcome.Policy
		now    time.Time
	)

	BeforeEach(func() {
		now = time.Now()
		policy = outcome.Policy{
			ExpectedToken: "enginesis",
			AlertLoadTime: time.Second,
		}
	})

	result := func(status int, body string, elapsed time.Duration, err error) probe.Result {
		return probe.Result{
			StatusCode:  status,
			Body:        body,
			Elapsed:     elapsed,
			StartedAt:   now.Add(-elapsed),
			CompletedAt: now,
			Err:         err,
		}
	}

	It("should classify transport errors first", func() {
		s := outcome.Classify("site", result(200, "enginesis", 5*time.Second, errors.New("connection reset")), policy)

		Expect(s.Kind).To(Equal(outcome.KindTransportFailure))
		Expect(s.StatusCode).To(BeZero())
		Expect(s.Message).To(Equal("connection reset"))
	})

	It("should classify non-200 status before content", func() {
		s := outcome.Classify("site", result(http.StatusServiceUnavailable, "", 0, nil), policy)

		Expect(s.Kind).To(Equal(outcome.KindStatusFailure))
		Expect(s.StatusCode).To(Equal(503))
		Expect(s.Message).To(ContainSubstring("Service Unavailable"))
	})

	It("should treat redirects that were not followed as status failures", func() {
		s := outcome.Classify("site", result(http.StatusFound, "enginesis", 0, nil), policy)

		Expect(s.Kind).To(Equal(outcome.KindStatusFailure))
	})

	It("should flag a missing token", func() {
		s := outcome.Classify("site", result(200, "maintenance page", 10*time.Millisecond, nil), policy)

		Expect(s.Kind).To(Equal(outcome.KindTokenMissing))
	})

	It("should match the token case-sensitively", func() {
		s := outcome.Classify("site", result(200, "ENGINESIS", 10*time.Millisecond, nil), policy)

		Expect(s.Kind).To(Equal(outcome.KindTokenMissing))
	})

	It("should treat an empty token as always found", func() {
		policy.ExpectedToken = ""
		s := outcome.Classify("site", result(200, "", 10*time.Millisecond, nil), policy)

		Expect(s.Kind).To(Equal(outcome.KindSuccess))
	})

	It("should flag slow responses once the token is found", func() {
		s := outcome.Classify("site", result(200, "hello enginesis", 1500*time.Millisecond, nil), policy)

		Expect(s.Kind).To(Equal(outcome.KindLatencyExceeded))
		Expect(s.Message).To(ContainSubstring("1.5s"))
	})

	It("should not flag a response exactly at the threshold", func() {
		s := outcome.Classify("site", result(200, "enginesis", time.Second, nil), policy)

		Expect(s.Kind).To(Equal(outcome.KindSuccess))
	})

	It("should fill identity and timing fields", func() {
		s := outcome.Classify("games", result(200, "enginesis", 20*time.Millisecond, nil), policy)

		Expect(s.ID).NotTo(BeEmpty())
		Expect(s.Site).To(Equal("games"))
		Expect(s.Timestamp).To(Equal(now))
		Expect(s.Elapsed).To(Equal(20 * time.Millisecond))
		Expect(s.StatusCode).To(Equal(200))
	})

	It("should stamp results without a completion time", func() {
		s := outcome.Classify("games", probe.Result{Err: errors.New("boom")}, policy)

		Expect(s.Timestamp).NotTo(BeZero())
	})
})

var _ = Describe("Kind", func() {
	It("should only count slow responses toward a streak", func() {
		Expect(outcome.KindLatencyExceeded.CountsTowardStreak()).To(BeTrue())
		Expect(outcome.KindTransportFailure.CountsTowardStreak()).To(BeFalse())
		Expect(outcome.KindStatusFailure.CountsTowardStreak()).To(BeFalse())
		Expect(outcome.KindTokenMissing.CountsTowardStreak()).To(BeFalse())
		Expect(outcome.KindSuccess.CountsTowardStreak()).To(BeFalse())
	})

	It("should map kinds to error codes", func() {
		Expect(outcome.KindSuccess.ErrorCode()).To(Equal("OK"))
		Expect(outcome.KindStatusFailure.ErrorCode()).To(Equal("STATUS"))
		Expect(outcome.Kind("other").ErrorCode()).To(Equal("UNKNOWN"))
	})

	It("should report failures", func() {
		Expect(outcome.KindSuccess.IsFailure()).To(BeFalse())
		Expect(outcome.KindTokenMissing.IsFailure()).To(BeTrue())
	})
})
