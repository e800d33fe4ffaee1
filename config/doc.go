// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供深度研究服务的配置加载。
//
// 配置由默认值、OPENAI_API_KEY / OPENAI_BASE_URL / TAVILY_API_KEY、
// YAML 文件与 DEEPRESEARCH_ 前缀环境变量依次叠加，
// 最后由 Validate 检查协调器预算、模型与检索参数。
package config
