package log

import (
	"net"

	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameSession   = "sessionID"
	FieldNameUsername  = "username"
	FieldNameEvent     = "event"
	FieldNameRemote    = "remote"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

func FieldSessionID(id uint64) zap.Field {
	return zap.Uint64(FieldNameSession, id)
}

func FieldUsername(username string) zap.Field {
	return zap.String(FieldNameUsername, username)
}

func FieldEvent(event string) zap.Field {
	return zap.String(FieldNameEvent, event)
}

// FieldRemoteAddr 返回对端地址字段，addr 为 nil 时不输出该字段。
func FieldRemoteAddr(addr net.Addr) zap.Field {
	if addr == nil {
		return zap.Skip()
	}
	return zap.Stringer(FieldNameRemote, addr)
}
