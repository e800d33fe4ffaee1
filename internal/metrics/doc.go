// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的研究运行指标采集。

# 概述

Collector 通过 promauto 注册全部指标，同一进程内以 namespace 区分实例。
它同时实现协调器的 Recorder、LLM 可观测层的 RequestRecorder、
检索工具的 SearchObserver 与缓存的 CacheObserver，
由 CLI 通过 promhttp 暴露。

# 指标维度

  - 研究运行：运行次数（按终止原因）、耗时、迭代数、决策分支、
    委派批次与规模、worker 耗时、在途 worker 数、笔记裁剪次数。
  - LLM：请求数、延迟、Token 用量。
  - 检索与缓存：检索请求数、缓存命中与未命中。
  - 报告存储：查询耗时与归档结果。
*/
package metrics
