package core

import (
	"sync"
	"time"

	"fronix-gateway/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// keepUpstreamLogs 数据库中保留的最新记录数
const keepUpstreamLogs = 1000

// AsyncUpstreamLogger 异步批量写入上游调用记录并聚合 Provider 统计
type AsyncUpstreamLogger struct {
	db        *gorm.DB
	logChan   chan *models.UpstreamLog
	logger    *logrus.Logger
	batchSize int
	flushTime time.Duration
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// NewAsyncUpstreamLogger 创建新的异步日志记录器
func NewAsyncUpstreamLogger(db *gorm.DB, logger *logrus.Logger) *AsyncUpstreamLogger {
	l := &AsyncUpstreamLogger{
		db:        db,
		logChan:   make(chan *models.UpstreamLog, 1000), // 缓冲 1000 条
		logger:    logger,
		batchSize: 100,             // 批量插入大小
		flushTime: 5 * time.Second, // 最长等待时间
		quit:      make(chan struct{}),
	}
	l.startWorker()
	return l
}

// Log 提交日志到队列，队列满时丢弃，不阻塞请求
func (l *AsyncUpstreamLogger) Log(log *models.UpstreamLog) {
	if l == nil {
		return
	}
	select {
	case l.logChan <- log:
	default:
		l.logger.Warn("Upstream log channel full, dropping record")
	}
}

func (l *AsyncUpstreamLogger) startWorker() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.workerLoop()
	}()
}

func (l *AsyncUpstreamLogger) workerLoop() {
	var batch []*models.UpstreamLog
	timer := time.NewTicker(l.flushTime)
	defer timer.Stop()

	for {
		select {
		case log := <-l.logChan:
			batch = append(batch, log)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = nil
			}
		case <-timer.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = nil
			}
		case <-l.quit:
			// 退出前排空队列
			for {
				select {
				case log := <-l.logChan:
					batch = append(batch, log)
				default:
					if len(batch) > 0 {
						l.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush 批量写入数据库并更新统计
func (l *AsyncUpstreamLogger) flush(logs []*models.UpstreamLog) {
	if len(logs) == 0 {
		return
	}

	l.logger.Debugf("[UpstreamLog] Flushing %d records to DB...", len(logs))

	if err := l.db.CreateInBatches(logs, len(logs)).Error; err != nil {
		l.logger.Errorf("[UpstreamLog] Failed to flush records: %v", err)
	}

	l.prune()

	type statDelta struct {
		Success      int
		Error        int
		RateLimited  int
		Fallbacks    int
		TotalLatency float64
		Requests     int
	}
	statsMap := make(map[string]*statDelta)

	for _, log := range logs {
		if log.Provider == "" {
			continue
		}
		delta, exists := statsMap[log.Provider]
		if !exists {
			delta = &statDelta{}
			statsMap[log.Provider] = delta
		}
		delta.Requests++
		if log.StatusCode >= 200 && log.StatusCode < 300 {
			delta.Success++
		} else {
			delta.Error++
		}
		if log.StatusCode == 429 {
			delta.RateLimited++
		}
		if log.Fallback {
			delta.Fallbacks++
		}
		delta.TotalLatency += float64(log.Duration)
	}

	for provider, delta := range statsMap {
		var stat models.ProviderStats
		err := l.db.Where("provider = ?", provider).First(&stat).Error

		if err == nil {
			stat.Success += delta.Success
			stat.Error += delta.Error
			stat.RateLimited += delta.RateLimited
			stat.Fallbacks += delta.Fallbacks
			stat.TotalLatency += delta.TotalLatency
			stat.TotalRequests += int64(delta.Requests)
			l.db.Save(&stat)
		} else {
			l.db.Create(&models.ProviderStats{
				Provider:      provider,
				Success:       delta.Success,
				Error:         delta.Error,
				RateLimited:   delta.RateLimited,
				Fallbacks:     delta.Fallbacks,
				TotalLatency:  delta.TotalLatency,
				TotalRequests: int64(delta.Requests),
			})
		}
	}
}

// prune 只保留最新的 keepUpstreamLogs 条记录
func (l *AsyncUpstreamLogger) prune() {
	var count int64
	l.db.Model(&models.UpstreamLog{}).Count(&count)
	if count <= keepUpstreamLogs {
		return
	}

	var pivotID uint
	l.db.Model(&models.UpstreamLog{}).Select("id").Order("id desc").Offset(keepUpstreamLogs).Limit(1).Scan(&pivotID)
	if pivotID > 0 {
		l.db.Where("id <= ?", pivotID).Delete(&models.UpstreamLog{})
	}
}

// ProviderStats 返回所有 Provider 的聚合统计
func (l *AsyncUpstreamLogger) ProviderStats() ([]models.ProviderStats, error) {
	var stats []models.ProviderStats
	if err := l.db.Order("provider").Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// Close 刷新剩余日志并停止 Worker
func (l *AsyncUpstreamLogger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		close(l.quit)
		l.wg.Wait()
	})
}
