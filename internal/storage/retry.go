package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"syscall"
	"time"
)

// maxRetries 远程操作最大尝试次数
const maxRetries = 3

// withRetry 包装远程存储操作，仅对瞬时连接类错误重试
// 退避为线性 1s * 第几次，等待期间响应 ctx 取消
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = op(); err == nil {
			return nil
		}

		if !isConnectionError(err) || i == maxRetries-1 {
			break
		}

		log.Printf("存储操作失败，准备重试 (%d/%d): %v", i+1, maxRetries, err)

		timer := time.NewTimer(time.Duration(i+1) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}

// isConnectionError 判断是否为可重试的瞬时连接类错误
// 鉴权失败、请求格式错误等非瞬时错误直接向上传播
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// 后端可自行标注错误是否为瞬时故障
	var transient interface{ Transient() bool }
	if errors.As(err, &transient) {
		return transient.Transient()
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// 部分客户端只在错误文本中体现连接问题
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout")
}
