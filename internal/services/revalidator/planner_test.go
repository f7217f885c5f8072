package revalidator

import (
	"sync"
	"testing"
	"time"

	"github.com/BearBump/PinBox/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type randMock struct {
	mock.Mock
}

func (m *randMock) Intn(n int) int {
	args := m.Called(n)
	return args.Int(0)
}

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffDelay() {
	p := DefaultPlanner()
	s.Equal(5*time.Minute, p.BackoffDelay(1))
	s.Equal(15*time.Minute, p.BackoffDelay(2))
	s.Equal(30*time.Minute, p.BackoffDelay(3))
	s.Equal(60*time.Minute, p.BackoffDelay(4))
	s.Equal(60*time.Minute, p.BackoffDelay(100))
	s.Equal(5*time.Minute, p.BackoffDelay(0))
}

func (s *PlannerSuite) TestNextCheckDelay_NoJitterSkipsRand() {
	m := &randMock{}
	p := NewPlanner(DefaultPlannerConfig(), m)

	s.Equal(24*time.Hour, p.NextCheckDelay(models.ServiceabilityServiceable))
	s.Equal(6*time.Hour, p.NextCheckDelay(models.ServiceabilityNotServiceable))
	s.Equal(6*time.Hour, p.NextCheckDelay(models.ServiceabilityUnknown))
	m.AssertNotCalled(s.T(), "Intn", mock.Anything)
}

func (s *PlannerSuite) TestNextCheckDelay_Jitter() {
	m := &randMock{}
	m.On("Intn", 601).Return(42).Once()

	cfg := DefaultPlannerConfig()
	cfg.Jitter = 10 * time.Minute
	p := NewPlanner(cfg, m)

	s.Equal(24*time.Hour+42*time.Second, p.NextCheckDelay(models.ServiceabilityServiceable))
	m.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestNewPlanner_FillsDefaults() {
	p := NewPlanner(PlannerConfig{ServiceableDelay: time.Hour, Jitter: -time.Second}, nil)
	s.Equal(time.Hour, p.NextCheckDelay(models.ServiceabilityServiceable))
	s.Equal(6*time.Hour, p.NextCheckDelay(models.ServiceabilityNotServiceable))
	s.Equal(15*time.Minute, p.BackoffDelay(2))
}

func (s *PlannerSuite) TestNextCheckDelay_ConcurrentJitter() {
	p := NewPlanner(PlannerConfig{Jitter: time.Minute}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d := p.NextCheckDelay(models.ServiceabilityNotServiceable)
				if d < 6*time.Hour || d > 6*time.Hour+time.Minute {
					s.Failf("delay out of range", "%v", d)
				}
			}
		}()
	}
	wg.Wait()
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
