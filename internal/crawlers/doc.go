// Package crawlers 提供法院站点访问所需的浏览器会话与HTTP预检
//
// # 核心组件
//
// ## Session / Element
//
// 抽象的浏览器会话接口. 上层的验证码、韧性和站点流程只依赖这两个接口,
// 测试中由 crawlertest 包提供脚本化实现.
//
// 元素句柄在页面跳转后失效, 调用方每次导航后需重新按名称定位.
//
// ## RodLauncher
//
// 基于go-rod的会话工厂. 每个作业独占一个浏览器进程, 会话不在作业之间共享:
//
//	launcher := NewRodLauncher(DefaultBrowserOptions())
//	session, err := launcher.Open(ctx)
//	if err != nil { /* 处理错误 */ }
//	defer session.Close()
//
// 启动参数包含反自动化检测标志, 页面通过stealth创建, 原生对话框被自动接受.
// 连接断开类错误会被归类为 ErrBrowserCrashed.
//
// ## Probe
//
// 基于Colly的HTTP预检, 不启动浏览器. 识别502/503状态与"Информация временно недоступна"横幅.
//
// ## ResourceMonitor
//
// 使用gopsutil采样可用内存和CPU负载, 计算同时运行的浏览器会话上限;
// 资源紧张时 WaitForCapacity 推迟新会话的启动.
package crawlers
