// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package research 把澄清、简报、协调者与报告归档串成一条研究流水线。

子包：

  - supervisor  协调者循环、并发委派与最终报告
  - researcher  基于检索与 think_tool 的研究员
  - scope       澄清与研究简报
  - prompts     提示词模板

Pipeline 用 workflow.ChainWorkflow 依次执行 clarify → brief → research → deliver。
需要追问时链路在 clarify 处结束，Outcome 只携带 Clarification。
*/
package research
