package hal

import (
	"comus/kernel/driver/tty"
	"comus/kernel/driver/video/console"
	"comus/kernel/hal/multiboot"
)

var (
	egaConsole = &console.Ega{}
	rgbConsole = &console.RGB{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some output
// till everything is properly setup. The boot loader's reported framebuffer
// type selects between the EGA text-mode console and the direct-color RGB
// console; any other/unsupported type falls back to EGA as a conservative
// default.
func InitTerminal() {
	fbInfo := multiboot.GetFramebufferInfo()

	if fbInfo.Type == multiboot.FramebufferTypeRGB {
		rgbConsole.Init(uint16(fbInfo.Width), uint16(fbInfo.Height), fbInfo.Bpp, uintptr(fbInfo.PhysAddr))
		ActiveTerminal.AttachTo(rgbConsole)
		return
	}

	egaConsole.Init(uint16(fbInfo.Width), uint16(fbInfo.Height), uintptr(fbInfo.PhysAddr))
	ActiveTerminal.AttachTo(egaConsole)
}
