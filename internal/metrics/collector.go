// Package metrics 推理指标收集
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	inferTotal    *prometheus.CounterVec
	inferDuration *prometheus.HistogramVec
	segmentsTotal prometheus.Counter
	cacheLookups  *prometheus.CounterVec
	modelLoads    *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，reg 为空时使用独立的注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.inferTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_total",
			Help:      "Total number of inference calls",
		},
		[]string{"variant", "status"},
	)

	c.inferDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Inference duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"variant"},
	)

	c.segmentsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "long_audio_segments_total",
			Help:      "Total number of segments processed by long-audio inference",
		},
	)

	c.cacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resample_cache_lookups_total",
			Help:      "Resampler cache lookups",
		},
		[]string{"result"},
	)

	c.modelLoads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model (re)load attempts",
		},
		[]string{"status"},
	)

	return c
}

// RecordInference 记录一次推理调用
func (c *Collector) RecordInference(variant string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.inferTotal.WithLabelValues(variant, status).Inc()
	c.inferDuration.WithLabelValues(variant).Observe(time.Since(start).Seconds())
}

// RecordSegments 记录处理的分段数
func (c *Collector) RecordSegments(n int) {
	c.segmentsTotal.Add(float64(n))
}

// RecordCacheLookup 记录重采样缓存命中情况
func (c *Collector) RecordCacheLookup(hit bool) {
	if hit {
		c.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.cacheLookups.WithLabelValues("miss").Inc()
}

// RecordModelLoad 记录模型加载
func (c *Collector) RecordModelLoad(err error) {
	if err != nil {
		c.modelLoads.WithLabelValues("error").Inc()
		c.logger.Debug("model load failed", zap.Error(err))
		return
	}
	c.modelLoads.WithLabelValues("ok").Inc()
}
