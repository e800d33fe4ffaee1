// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 deepresearch 命令行入口。

# 子命令

  - run       执行一次深度研究并输出报告（或需要追问的问题）
  - reports   列出或查看归档的报告
  - migrate   报告库 schema 迁移（postgres / mysql 版本化，sqlite 走 AutoMigrate）
  - version   版本信息
  - help      帮助

# 运行时组件

run 按配置装配：zap 日志、OpenTelemetry、独立端口的 /metrics 服务、
redis 检索缓存、gorm 报告归档。可选组件初始化失败只记录告警，研究照常进行。
版本信息通过 ldflags 注入 Version、BuildTime、GitCommit。
*/
package main
