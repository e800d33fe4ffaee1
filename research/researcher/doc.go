// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package researcher 提供 supervisor.Worker 的默认实现。

每个研究员在 tavily_search 与 think_tool 上运行 ReAct 循环（默认最多 5 轮），
然后用压缩模型把自己的 transcript 整理为带引用的摘要交给协调者。
网页原文由 NewWebpageSummarizer 在检索工具内部压缩。
*/
package researcher
