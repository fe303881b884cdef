package process

import "syscall"

// sysProcAttr places the child in its own process group and asks the kernel
// to kill it if the supervisor dies first.
func sysProcAttr(cred *Credential) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if cred != nil {
		attr.Credential = &syscall.Credential{Uid: cred.UID, Gid: cred.GID}
	}
	return attr
}
