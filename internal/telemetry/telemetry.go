// =============================================================================
// 📡 OpenTelemetry SDK 装配
// =============================================================================
// 按配置装配 trace 与 metric 提供方并注册为全局。遥测禁用时不建任何
// 导出器，全局保持 noop；W3C trace context 透传在两种模式下都注册，
// 上游带来的 traceparent 不会在本服务断链。
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/BaSui01/meshforge/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// Providers 持有已注册为全局的 SDK 提供方。
// 遥测禁用时两个字段都为空，Shutdown 是 no-op。
type Providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// Init 装配遥测。environment 作为 deployment.environment 资源属性
// 附在所有 span 与指标上，热重载遥测配置时会整体重建提供方。
func Init(cfg config.TelemetryConfig, environment string, logger *zap.Logger) (*Providers, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		logger.Info("Telemetry disabled, global providers stay noop")
		return &Providers{}, nil
	}

	ctx := context.Background()

	res, err := buildResource(ctx, cfg.ServiceName, environment)
	if err != nil {
		return nil, err
	}

	tracer, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}

	meter, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		// 半装配状态不能外泄，先收掉已建好的 tracer
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(closeCtx)
		return nil, err
	}

	otel.SetTracerProvider(tracer)
	otel.SetMeterProvider(meter)

	logger.Info("Telemetry initialized",
		zap.String("otlp_endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.String("environment", environment),
		zap.Float64("sample_rate", cfg.SampleRate),
	)

	return &Providers{tracer: tracer, meter: meter}, nil
}

// Shutdown 刷出未导出的 span 与指标并关闭导出器。
// 对 nil 接收者与禁用态的提供方都安全。
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	var tracerErr, meterErr error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			tracerErr = fmt.Errorf("shutdown tracer provider: %w", err)
		}
	}
	if p.meter != nil {
		if err := p.meter.Shutdown(ctx); err != nil {
			meterErr = fmt.Errorf("shutdown meter provider: %w", err)
		}
	}
	return errors.Join(tracerErr, meterErr)
}

// buildResource 组装服务标识资源：名称、构建版本与部署环境
func buildResource(ctx context.Context, serviceName, environment string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(buildVersion()),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	return res, nil
}

// newTracerProvider 建 OTLP gRPC 导出器与批量 span 处理器。
// 导出器是懒连接的，collector 不在线不影响装配。
func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		// 上游已采样的请求跟着采，根 span 按配置比例采
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	), nil
}

// newMeterProvider 建 OTLP gRPC 指标导出器与周期读取器
func newMeterProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}

// buildVersion 从构建信息取模块版本，取不到时退回 "dev"
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
