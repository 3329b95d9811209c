package core

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient 创建上游共享的高性能 HTTP Client
// 不设置全局超时，由请求 Context 控制；headerTimeout 限制等待首字节的时间
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = 120 * time.Second
	}
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 60 * time.Second, // 保持 TCP 连接活跃
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          1000,             // 最大空闲连接数
			MaxIdleConnsPerHost:   100,              // 每个 Host 的最大空闲连接数
			IdleConnTimeout:       90 * time.Second, // 空闲连接超时
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
		},
	}
}
