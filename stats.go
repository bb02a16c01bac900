package jackrabbit

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/hboutemy/jackrabbit/fsys"
	"github.com/hboutemy/jackrabbit/observation"
	"github.com/hboutemy/jackrabbit/utils"
)

var NodeCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "jackrabbit",
	Subsystem: "stats",
	Name:      "nodes",
})

var PropertyCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "jackrabbit",
	Subsystem: "stats",
	Name:      "properties",
})

// propertiesResource is the repository properties snapshot: descriptor
// key/values plus running statistics, rewritten at startup and shutdown.
const propertiesResource = "properties.yaml"

const (
	statNodesKey      = "jackrabbit.stats.nodes.count"
	statPropsKey      = "jackrabbit.stats.properties.count"
	statLoginAvgKey   = "jackrabbit.stats.logins.avg_ms"
	statLoginCountKey = "jackrabbit.stats.logins.count"
)

func defaultDescriptors() map[string]string {
	return map[string]string{
		"jcr.repository.name":    "jackrabbit",
		"jcr.repository.vendor":  "hboutemy",
		"jcr.repository.version": "0.1.0",
	}
}

// repoStats is the statistics event sink, observing every workspace's
// node and property changes, and the properties snapshot behind the
// repository descriptors.
type repoStats struct {
	area *fsys.Area
	log  utils.Logger

	mu       sync.Mutex
	props    map[string]string
	nodes    int64
	propCnt  int64
	loginAvg utils.AvgVal
	disposed bool
}

// openStats loads the persisted properties, merges the built-in
// descriptors underneath, and rewrites the resource so a fresh home is
// populated on first start.
func openStats(area *fsys.Area, log utils.Logger) (*repoStats, error) {
	s := &repoStats{area: area, log: log, props: map[string]string{}}
	raw, err := area.ReadResource(propertiesResource)
	switch {
	case errors.Is(err, fsys.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if uerr := yaml.Unmarshal(raw, &s.props); uerr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, propertiesResource, uerr)
		}
		if s.props == nil {
			s.props = map[string]string{}
		}
	}
	for k, v := range defaultDescriptors() {
		if _, ok := s.props[k]; !ok {
			s.props[k] = v
		}
	}
	s.nodes = parseCounter(s.props[statNodesKey])
	s.propCnt = parseCounter(s.props[statPropsKey])
	NodeCountGauge.Set(float64(s.nodes))
	PropertyCountGauge.Set(float64(s.propCnt))
	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseCounter(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// OnEvents implements observation.Listener. Batches arriving after
// disposal are dropped.
func (s *repoStats) OnEvents(events []observation.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	for _, ev := range events {
		switch ev.Type {
		case observation.NodeAdded:
			s.nodes++
		case observation.NodeRemoved:
			s.nodes--
		case observation.PropertyAdded:
			s.propCnt++
		case observation.PropertyRemoved:
			s.propCnt--
		}
	}
	NodeCountGauge.Set(float64(s.nodes))
	PropertyCountGauge.Set(float64(s.propCnt))
}

func (s *repoStats) recordLogin(d time.Duration) {
	s.loginAvg.Add(float64(d) / float64(time.Millisecond))
}

// counts returns the current node and property totals.
func (s *repoStats) counts() (nodes, properties int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes, s.propCnt
}

// descriptors returns a copy of the properties snapshot with the
// statistics keys brought up to date.
func (s *repoStats) descriptors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocked()
	out := make(map[string]string, len(s.props))
	for k, v := range s.props {
		out[k] = v
	}
	return out
}

func (s *repoStats) descriptor(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocked()
	v, ok := s.props[key]
	return v, ok
}

// flush persists the snapshot explicitly, between the startup and
// shutdown rewrites.
func (s *repoStats) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil
	}
	return s.flushLocked()
}

func (s *repoStats) syncLocked() {
	s.props[statNodesKey] = strconv.FormatInt(s.nodes, 10)
	s.props[statPropsKey] = strconv.FormatInt(s.propCnt, 10)
	if s.loginAvg.Count() > 0 {
		s.props[statLoginAvgKey] = strconv.FormatFloat(s.loginAvg.Val(), 'f', 3, 64)
		s.props[statLoginCountKey] = strconv.Itoa(s.loginAvg.Count())
	}
}

func (s *repoStats) flushLocked() error {
	s.syncLocked()
	data, err := yaml.Marshal(s.props)
	if err != nil {
		return err
	}
	return s.area.WriteResource(propertiesResource, data)
}

// close flushes one final time and drops all later event batches.
func (s *repoStats) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil
	}
	s.disposed = true
	return s.flushLocked()
}
