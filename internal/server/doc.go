// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 deepresearch run 期间的指标 HTTP 服务器。

MetricsHandler 组装 /metrics（promhttp）与 /healthz 路由；Manager 负责
非阻塞启动、异步错误上报与带超时的优雅关闭。
*/
package server
