// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 deep research 各模块共享的基础类型。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、research、workflow
等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message / Role：对话消息（system / user / assistant / tool）
  - ToolCall：推理引擎发出的工具调用（ID + Name + JSON 参数）
  - ToolSchema：工具定义（name + description + JSON Schema parameters）
  - ToolResult：工具执行结果，可转换为 tool 消息
  - TokenUsage：Token 消耗统计
  - Error / ErrorCode：结构化错误，含 Retryable、Provider 与 Cause
  - ReportRecord：归档的研究报告

# 主要能力

  - Context 传播：WithTraceID / WithRunID / WithIteration
  - 错误工具链：NewError / WrapError / AsError / IsErrorCode / IsRetryable
*/
package types
