package server

import (
	"sync"

	"go.uber.org/zap"

	"litflow/batch"
)

const defaultStoreSize = 100

// reportStore 内存中保存最近的批处理报告，超过容量时淘汰最早的一份并删除它的输出目录。
type reportStore struct {
	mu      sync.Mutex
	max     int
	order   []string
	reports map[string]*batch.Report
	logger  *zap.Logger
}

func newReportStore(max int, logger *zap.Logger) *reportStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reportStore{max: max, reports: make(map[string]*batch.Report), logger: logger}
}

func (s *reportStore) set(id string, rep *batch.Report) {
	s.mu.Lock()
	var evicted []*batch.Report
	if _, ok := s.reports[id]; !ok {
		s.order = append(s.order, id)
	}
	s.reports[id] = rep
	for len(s.order) > s.max {
		evicted = append(evicted, s.reports[s.order[0]])
		delete(s.reports, s.order[0])
		s.order = s.order[1:]
	}
	s.mu.Unlock()

	for _, old := range evicted {
		if err := old.RemoveFiles(); err != nil {
			s.logger.Warn("remove evicted batch output", zap.String("batch", old.ID), zap.Error(err))
		}
	}
}

func (s *reportStore) get(id string) (*batch.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reports[id]
	return rep, ok
}
