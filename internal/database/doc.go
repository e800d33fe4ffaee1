// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供研究报告的归档存储。

# 概述

PoolManager 封装 GORM 与 database/sql 的连接池（postgres、mysql 与纯 Go
sqlite），负责健康检查与带退避重试的事务。ReportStore 在其上实现
research_reports 表的写入、按 ID 读取与最近报告列表，并把每次查询耗时
交给 QueryObserver（prometheus Collector）。

# 建表

postgres 与 mysql 使用 migration 包的版本化迁移；sqlite 使用 gorm AutoMigrate。
*/
package database
