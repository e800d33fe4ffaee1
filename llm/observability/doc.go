// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 observability 为 LLM 调用提供 OpenTelemetry 追踪、指标与成本核算。

# 核心类型

  - Metrics：基于 otel Meter/Tracer 的收集器，记录请求数、Token、错误、
    延迟直方图、单次成本与在途请求数。
  - InstrumentedProvider：包装任意 llm.Provider，每次 Completion 产生一个
    llm.completion span，并按 stage（supervisor、researcher、report 等）打标签。
  - CostCalculator / CostTracker：按模型名（最长前缀）计价，累计一次研究运行的成本。
  - RequestRecorder：可选的外部上报接口，internal/metrics.Collector 实现它。
*/
package observability
