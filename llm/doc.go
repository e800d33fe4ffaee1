// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供推理引擎的统一接入层：Provider 抽象、请求/响应模型与错误码。

# 概述

研究协调器、研究员与报告生成都只依赖 [Provider] 接口，具体的 HTTP
实现位于 providers/openaicompat，可观测包装位于 observability。

# 核心类型

  - [Provider]：Completion / HealthCheck / Name / SupportsNativeFunctionCalling
  - [ChatRequest] / [ChatResponse]：OpenAI 兼容的请求与响应模型
  - [ResponseFormat]：结构化输出（json_object）
  - [Error] / [ErrorCode]：Provider 层错误，携带 HTTP 状态与可重试标记

# 辅助函数

  - [FirstChoice]：安全地取出第一个 choice
  - [DecodeJSONContent]：把结构化输出解码到目标结构体
*/
package llm
