// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 基于 golang-migrate 管理报告库 research_reports 表的版本化迁移。

迁移文件以 embed 方式打包在二进制中，按 postgres 与 mysql 分目录存放。
sqlite 不走版本化迁移（返回 ErrUnsupported），由 database 包通过
gorm AutoMigrate 建表。CLI 为 deepresearch migrate 子命令输出进度与状态表。
*/
package migration
