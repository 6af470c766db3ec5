package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

var (
	// ErrInvalidParam indicates an invalid parameter.
	ErrInvalidParam = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryRequest, 1),
		HTTP:      http.StatusBadRequest,
		GRPCCode:  codes.InvalidArgument,
		MessageEN: "Invalid parameter",
		MessageZH: "参数无效",
	})

	// ErrNotFound indicates a missing resource.
	ErrNotFound = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryResource, 0),
		HTTP:      http.StatusNotFound,
		GRPCCode:  codes.NotFound,
		MessageEN: "Resource not found",
		MessageZH: "资源不存在",
	})

	// ErrInternal indicates an unexpected internal failure.
	ErrInternal = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryInternal, 0),
		HTTP:      http.StatusInternalServerError,
		GRPCCode:  codes.Internal,
		MessageEN: "Internal server error",
		MessageZH: "服务器内部错误",
	})

	// ErrDatabase indicates a policy storage failure.
	ErrDatabase = Register(&Errno{
		Code:      MakeCode(ServiceInfraDB, CategoryDatabase, 0),
		HTTP:      http.StatusInternalServerError,
		GRPCCode:  codes.Internal,
		MessageEN: "Database error",
		MessageZH: "数据库错误",
	})

	// ErrNetwork indicates a transport failure.
	ErrNetwork = Register(&Errno{
		Code:      MakeCode(ServiceInfraMQ, CategoryNetwork, 0),
		HTTP:      http.StatusBadGateway,
		GRPCCode:  codes.Unavailable,
		MessageEN: "Network error",
		MessageZH: "网络错误",
	})

	// ErrConfig indicates invalid configuration.
	ErrConfig = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryConfig, 0),
		HTTP:      http.StatusInternalServerError,
		GRPCCode:  codes.FailedPrecondition,
		MessageEN: "Configuration error",
		MessageZH: "配置错误",
	})
)

// Watcher errors. None of these reach the policy mutation path; they are
// reported through logs and failure handlers.
var (
	// ErrCallbackPanic indicates the registered callback panicked.
	ErrCallbackPanic = Register(&Errno{
		Code:      MakeCode(ServiceAuthz, CategoryInternal, 1),
		HTTP:      http.StatusInternalServerError,
		GRPCCode:  codes.Internal,
		MessageEN: "Watcher callback panicked",
		MessageZH: "回调执行异常",
	})

	// ErrWatcherClosed indicates an operation on a closed watcher.
	ErrWatcherClosed = Register(&Errno{
		Code:      MakeCode(ServiceAuthz, CategoryInternal, 2),
		HTTP:      http.StatusServiceUnavailable,
		GRPCCode:  codes.Unavailable,
		MessageEN: "Watcher is closed",
		MessageZH: "监听器已关闭",
	})

	// ErrPublish indicates a payload could not be forwarded to the transport.
	ErrPublish = Register(&Errno{
		Code:      MakeCode(ServiceAuthz, CategoryNetwork, 1),
		HTTP:      http.StatusBadGateway,
		GRPCCode:  codes.Unavailable,
		MessageEN: "Failed to publish policy update",
		MessageZH: "策略更新发布失败",
	})
)
