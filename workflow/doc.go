// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package workflow 提供顺序链式工作流。

ChainWorkflow 依次执行 Step，上一步的输出作为下一步的输入。
步骤返回 ErrStopChain 时链路以该步输出提前结束；
通过 WithStreamEmitter 注入的回调可以观察每一步的开始、完成与失败。
*/
package workflow
