// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package supervisor 实现研究协调者的决策、委派与汇总状态机。

# 循环

每一轮先调用 DecisionMaker，把产出的消息追加到 transcript 并计数，然后按固定
优先级检查终止条件：预算耗尽、无可处理调用、完成信号。未终止时：

  - 反思（think_tool）在本地解析为 "Reflection recorded: <note>"
  - 委派（ConductResearch）通过 errgroup 并发派发给 Worker，最多
    MaxConcurrentWorkers 个同时运行，结果按请求顺序写回 transcript

同一轮同时出现反思与委派时由 MixedActionPolicy 决定，默认只派发委派。

# 失败

决策失败是致命错误（types.ErrDecisionFailed）。任一 worker 失败时整批结果被丢弃，
其余 worker 被取消，运行以 TerminationDelegationFailed 结束并标记 Degraded，
报告只基于之前各轮的 notes。汇总失败返回 types.ErrAggregationFailed，
除非 LLMAggregator 开启了 FallbackToNotes。
*/
package supervisor
