package hal

// StaticLinkInfo is a fixed-at-construction LinkInfo, standing in for the
// Wi-Fi/DHCP bring-up collaborator external to this module (spec §1, §6).
type StaticLinkInfo struct {
	mac  [6]byte
	ip   [4]byte
	mask [4]byte
	gw   [4]byte
}

// NewStaticLinkInfo returns a LinkInfo reporting the given fixed values.
func NewStaticLinkInfo(mac [6]byte, ip, mask, gw [4]byte) *StaticLinkInfo {
	return &StaticLinkInfo{mac: mac, ip: ip, mask: mask, gw: gw}
}

func (l *StaticLinkInfo) MAC() [6]byte        { return l.mac }
func (l *StaticLinkInfo) IPv4() [4]byte       { return l.ip }
func (l *StaticLinkInfo) SubnetMask() [4]byte { return l.mask }
func (l *StaticLinkInfo) Gateway() [4]byte    { return l.gw }
