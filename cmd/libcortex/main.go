package main

/*
#include <stdlib.h>

// 定义回调函数的函数指针类型
// topic: event
// payload: JSON数据
typedef void (*EventCallback)(char* topic, char* payload);

// 声明一个帮助函数来调用回调（Go 不能直接调用 C 函数指针，需通过 C 桥接）
static void invokeCallback(EventCallback cb, char* topic, char* payload) {
    if (cb) {
        cb(topic, payload);
    }
}
*/
import "C"
import (
	"encoding/json"
	"strings"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/internal/service"
	"github.com/dyike/CortexAdvisor/pkg/app"
	"github.com/dyike/CortexAdvisor/pkg/bridge"
)

var (
	globalCallback C.EventCallback

	mu  sync.Mutex
	rt  *app.Runtime
	svc *service.Service
)

func init() {
	// 设置Go内部发送事件的实现
	bridge.SetNotifyImpl(func(topic, payload string) {
		if globalCallback == nil {
			return
		}
		cTopic := C.CString(topic)
		cPayload := C.CString(payload)
		// 必须释放 Go 创建的 C 字符串
		defer C.free(unsafe.Pointer(cTopic))
		defer C.free(unsafe.Pointer(cPayload))

		C.invokeCallback(globalCallback, cTopic, cPayload)
	})
}

//export InitSDK
func InitSDK(workDir *C.char, configJson *C.char) *C.char {
	dir := C.GoString(workDir)
	raw := C.GoString(configJson)

	mu.Lock()
	defer mu.Unlock()
	if rt != nil {
		return C.CString("Success")
	}

	opts := []config.ManagerOption{config.WithConfigDir(dir)}
	if strings.TrimSpace(raw) != "" {
		initial := config.DefaultConfigWithRoot(dir)
		if err := json.Unmarshal([]byte(raw), initial); err != nil {
			return C.CString("Error: " + err.Error())
		}
		opts = append(opts, config.WithInitialConfig(initial))
	}
	mgr, err := config.NewManager(opts...)
	if err != nil {
		return C.CString("Error: " + err.Error())
	}

	logger := zap.NewNop()
	r, err := app.NewRuntime(mgr, app.WithLogger(logger), app.WithNotifier(bridge.Notify))
	if err != nil {
		return C.CString("Error: " + err.Error())
	}
	rt = r
	svc = service.New(rt, bridge.Notify, logger, consts.Version)
	return C.CString("Success")
}

//export RegisterCallback
func RegisterCallback(cb C.EventCallback) {
	globalCallback = cb
}

//export UpdateConfig
func UpdateConfig(jsonStr *C.char) *C.char {
	mu.Lock()
	r := rt
	mu.Unlock()
	if r == nil {
		return C.CString("Error: SDK not initialized")
	}
	if err := r.UpdateConfigJSON(C.GoString(jsonStr)); err != nil {
		return C.CString("Error: " + err.Error())
	}
	return C.CString("Success")
}

//export Call
func Call(method *C.char, params *C.char) *C.char {
	m := C.GoString(method)
	p := C.GoString(params)

	mu.Lock()
	s := svc
	mu.Unlock()

	return C.CString(Dispatch(s, m, p))
}

//export Shutdown
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if svc != nil {
		svc.Close()
		svc = nil
	}
	if rt != nil {
		rt.Close()
		rt = nil
	}
}

//export FreeString
func FreeString(str *C.char) {
	C.free(unsafe.Pointer(str))
}

func main() {}
