// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package prompts 提供研究流程各阶段使用的提示词模板。

模板使用 {{variable}} 占位符，由 Render 替换；未提供的变量保留原样。
日期统一使用 DateLayout（"Mon Jan 2, 2006"）。
*/
package prompts
