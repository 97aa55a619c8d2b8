// Package control validates and dispatches control commands.
//
// A command is a 32-bit code plus a raw parameter buffer. Codes use the
// familiar ioctl layout (number, category, size, direction) with category
// 'G' and a 56-byte parameter record:
//
//	offset  size  field
//	0       32    name, NUL-terminated
//	32      8     host major, minor (int32 LE)
//	40      8     repository major, minor
//	48      8     metadata major, minor
//
// Commands:
//
//	VERSION     read        returns the version, touches nothing
//	DEV_CREATE  read/write  creates a device; all three majors must be > 0
//	DEV_REMOVE  write       removes the named (or sole) device
//	DEV_STATUS  read/write  reports the named (or sole) device
//
// Each call copies the record once into a pooled buffer, forcibly
// terminates the name, and returns the buffer to the pool on every exit
// path. Errors map to errno values with Errno.
package control
