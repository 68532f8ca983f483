package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
)

// SampleVideos are the results the mock provider hands out.
var SampleVideos = []string{
	"https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/BigBuckBunny.mp4",
	"https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ElephantsDream.mp4",
	"https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ForBiggerBlazes.mp4",
	"https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ForBiggerEscapes.mp4",
	"https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/Sintel.mp4",
}

const mockIDPrefix = "mock_"

// MockProvider simulates a provider without a network. Job ids encode their
// submission time, so status survives a restart: a job reports processing
// until delay has passed and completed afterwards.
type MockProvider struct {
	delay  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewMockProvider(delay time.Duration, logger *slog.Logger) *MockProvider {
	return &MockProvider{delay: delay, now: time.Now, logger: logger}
}

func (m *MockProvider) Submit(ctx context.Context, spec JobSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("%s%d_%s", mockIDPrefix, m.now().UnixMilli(), randomSuffix())
	if m.logger != nil {
		m.logger.Info("mock generation submitted",
			"provider", spec.Provider,
			"job_type", spec.JobType,
			"provider_job_id", id,
		)
	}
	return id, nil
}

func (m *MockProvider) FetchStatus(ctx context.Context, providerJobID string) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	submitted, ok := parseMockID(providerJobID)
	if !ok {
		return &Status{
			Status:       catalog.JobStatusFailed,
			ErrorMessage: "unknown mock job " + providerJobID,
		}, nil
	}

	if m.now().Before(submitted.Add(m.delay)) {
		return &Status{Status: catalog.JobStatusProcessing}, nil
	}
	return &Status{
		Status:    catalog.JobStatusCompleted,
		ResultURL: SampleFor(providerJobID),
	}, nil
}

// SampleFor picks a sample video deterministically from the job id.
func SampleFor(providerJobID string) string {
	h := fnv.New32a()
	h.Write([]byte(providerJobID))
	return SampleVideos[int(h.Sum32()%uint32(len(SampleVideos)))]
}

func parseMockID(id string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(id, mockIDPrefix)
	if !ok {
		return time.Time{}, false
	}
	ts, _, ok := strings.Cut(rest, "_")
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func randomSuffix() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 9)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
