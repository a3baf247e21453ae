package uapi

import "testing"

func TestDMAIOCtlParamsRoundTrip(t *testing.T) {
	want := DMAIOCtlParams{HostAddr: 0x1000, FPGAAddr: 0x20000000, BTT: 4096}
	buf := make([]byte, 20)
	PutDMAIOCtlParams(buf, want)
	got := GetDMAIOCtlParams(buf)
	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestUserIOCtlParamsRoundTrip(t *testing.T) {
	want := UserIOCtlParams{FPGAAddr: 0x30000000, Data: 1, Event: 2}
	buf := make([]byte, 16)
	PutUserIOCtlParams(buf, want)
	got := GetUserIOCtlParams(buf)
	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestStatusCoreHeaderDecode(t *testing.T) {
	buf := make([]byte, StatusCoreHeaderSize+SlotDescriptorSize)
	buf[8] = 1 // NumSlots = 1, little-endian
	hdr := ReadStatusCoreHeader(buf)
	if hdr.NumSlots != 1 {
		t.Errorf("expected NumSlots=1, got %d", hdr.NumSlots)
	}

	buf[StatusCoreHeaderSize+0] = 7 // KernelID = 7
	slot := ReadSlotDescriptor(buf, 0)
	if slot.KernelID != 7 {
		t.Errorf("expected KernelID=7, got %d", slot.KernelID)
	}
}

func TestIoctlCommandsAreDistinct(t *testing.T) {
	cmds := []uintptr{
		CmdDMAReadMmap, CmdDMAWriteMmap, CmdDMAReadBuf, CmdDMAWriteBuf,
		CmdDMASetMemH2L, CmdDMASetMemL2H, CmdUserWaitEvent, CmdCtlVersion,
	}
	seen := make(map[uintptr]bool, len(cmds))
	for _, c := range cmds {
		if seen[c] {
			t.Errorf("duplicate ioctl command number %#x", c)
		}
		seen[c] = true
	}
}

func TestIOWRSetsBothDirectionBits(t *testing.T) {
	r := IOR('a', 0, 4)
	w := IOW('a', 0, 4)
	rw := IOWR('a', 0, 4)
	if rw>>iocDirShift != (r>>iocDirShift)|(w>>iocDirShift) {
		t.Errorf("expected IOWR to combine IOR and IOW direction bits: ior=%#x iow=%#x iowr=%#x", r, w, rw)
	}
}
