//go:build !linux

package process

import "syscall"

func sysProcAttr(cred *Credential) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if cred != nil {
		attr.Credential = &syscall.Credential{Uid: cred.UID, Gid: cred.GID}
	}
	return attr
}
