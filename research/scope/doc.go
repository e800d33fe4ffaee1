// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package scope 把用户对话收敛为研究简报。

Clarify 判断请求是否需要先向用户追问；WriteBrief 把对话改写为
交给协调者的研究简报。两者都要求模型输出单个 JSON 对象，
解析失败返回 ErrStructuredOutput。
*/
package scope
