// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的结果缓存，主要服务于检索结果的复用。

# 概述

Manager 封装 go-redis 客户端，负责连接生命周期：初始化时 Ping 校验，
后台定时健康检查，Close 时停止检查并释放连接。所有键统一加上
KeyPrefix，便于多个部署共用同一个 Redis。

# 核心类型

  - Manager：提供 Get/Set 与 GetJSON/SetJSON，
    满足 llm/tools.SearchCache 接口。
  - Config：地址、密码、KeyPrefix、默认 TTL、连接池与 TLS 开关。
  - Stats：从 INFO 输出解析出的命中、未命中、内存与连接数，
    CLI 在运行结束时记录。

# 错误语义

未命中返回 ErrCacheMiss，使用 IsCacheMiss 判断。
*/
package cache
