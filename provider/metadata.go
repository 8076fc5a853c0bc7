package provider

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// UnixFileInfo extends FileInfo with Unix-specific metadata
type UnixFileInfo interface {
	FileInfo
	UID() uint32
	GID() uint32
	Mode() os.FileMode
}

// unixFileInfo wraps FileInfo to provide Unix-specific metadata
type unixFileInfo struct {
	FileInfo
	uid  uint32
	gid  uint32
	mode os.FileMode
}

func (u *unixFileInfo) UID() uint32       { return u.uid }
func (u *unixFileInfo) GID() uint32       { return u.gid }
func (u *unixFileInfo) Mode() os.FileMode { return u.mode }

// WrapOSFileInfo converts an os.FileInfo into a UnixFileInfo
func WrapOSFileInfo(info os.FileInfo) UnixFileInfo {
	baseInfo := &localFileInfo{
		name:    info.Name(),
		size:    info.Size(),
		isDir:   info.IsDir(),
		modTime: info.ModTime(),
	}

	fileStat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return baseInfo
	}

	return &unixFileInfo{
		FileInfo: baseInfo,
		uid:      fileStat.Uid,
		gid:      fileStat.Gid,
		mode:     info.Mode().Perm(),
	}
}

// NewUnixFileInfo creates a UnixFileInfo from raw values
func NewUnixFileInfo(info FileInfo, uid, gid uint32, mode os.FileMode) UnixFileInfo {
	return &unixFileInfo{
		FileInfo: info,
		uid:      uid,
		gid:      gid,
		mode:     mode,
	}
}

// UIDMapping maps current UIDs to target UIDs
type UIDMapping map[uint32]uint32

// GIDMapping maps current GIDs to target GIDs
type GIDMapping map[uint32]uint32

// MetadataMapper decides the ownership a provisioned file should end up with.
type MetadataMapper struct {
	uidMapping UIDMapping
	gidMapping GIDMapping
	// If true, keep the current UID/GID when no mapping exists
	preserveUnmapped bool

	defaultOwner *Owner
}

// MetadataMapperOption configures a MetadataMapper
type MetadataMapperOption func(*MetadataMapper)

// WithUIDMapping sets the UID mapping table
func WithUIDMapping(mapping UIDMapping) MetadataMapperOption {
	return func(m *MetadataMapper) {
		m.uidMapping = mapping
	}
}

// WithGIDMapping sets the GID mapping table
func WithGIDMapping(mapping GIDMapping) MetadataMapperOption {
	return func(m *MetadataMapper) {
		m.gidMapping = mapping
	}
}

// WithPreserveUnmapped controls whether unmapped UIDs/GIDs are preserved
func WithPreserveUnmapped(preserve bool) MetadataMapperOption {
	return func(m *MetadataMapper) {
		m.preserveUnmapped = preserve
	}
}

// WithDefaultOwner maps every unmapped UID/GID to owner.
func WithDefaultOwner(owner Owner) MetadataMapperOption {
	return func(m *MetadataMapper) {
		m.defaultOwner = &owner
	}
}

// NewMetadataMapper creates a new MetadataMapper with the given options
func NewMetadataMapper(opts ...MetadataMapperOption) *MetadataMapper {
	m := &MetadataMapper{
		uidMapping:       make(UIDMapping),
		gidMapping:       make(GIDMapping),
		preserveUnmapped: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MapUID returns the target UID for a current UID
func (m *MetadataMapper) MapUID(uid uint32) (uint32, bool) {
	if mapped, ok := m.uidMapping[uid]; ok {
		return mapped, true
	}
	if m.defaultOwner != nil {
		return m.defaultOwner.UID, true
	}
	if m.preserveUnmapped {
		return uid, true
	}
	return 0, false
}

// MapGID returns the target GID for a current GID
func (m *MetadataMapper) MapGID(gid uint32) (uint32, bool) {
	if mapped, ok := m.gidMapping[gid]; ok {
		return mapped, true
	}
	if m.defaultOwner != nil {
		return m.defaultOwner.GID, true
	}
	if m.preserveUnmapped {
		return gid, true
	}
	return 0, false
}

// ApplyMetadata brings path in line with the mapper. Permissions gain group
// write so the application user can manage assets; ownership is only
// changed when it differs.
func ApplyMetadata(path string, fileInfo FileInfo, mapper *MetadataMapper) error {
	unixInfo, ok := fileInfo.(UnixFileInfo)
	if !ok {
		return nil
	}

	if mode := unixInfo.Mode(); mode != 0 && mode&0o020 == 0 {
		if err := os.Chmod(path, mode|0o020); err != nil {
			return err
		}
	}

	if mapper == nil {
		return nil
	}
	uid, uidOK := mapper.MapUID(unixInfo.UID())
	gid, gidOK := mapper.MapGID(unixInfo.GID())
	if !uidOK || !gidOK {
		return nil
	}
	if uid == unixInfo.UID() && gid == unixInfo.GID() {
		return nil
	}
	return os.Lchown(path, int(uid), int(gid))
}

// Owner is a numeric ownership target.
type Owner struct {
	UID uint32
	GID uint32
}

// ParseOwner accepts "uid:gid", "user", or "user:group". A bare user takes
// that user's primary group.
func ParseOwner(s string) (Owner, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Owner{}, fmt.Errorf("empty owner")
	}
	userPart, groupPart, hasGroup := strings.Cut(s, ":")

	var owner Owner
	var primaryGID string
	if id, err := strconv.ParseUint(userPart, 10, 32); err == nil {
		owner.UID = uint32(id)
	} else {
		u, err := user.Lookup(userPart)
		if err != nil {
			return Owner{}, fmt.Errorf("unknown user %q: %w", userPart, err)
		}
		id, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			return Owner{}, fmt.Errorf("non-numeric uid for %q: %w", userPart, err)
		}
		owner.UID = uint32(id)
		primaryGID = u.Gid
	}

	if !hasGroup {
		if primaryGID == "" {
			return Owner{}, fmt.Errorf("owner %q needs a group", s)
		}
		groupPart = primaryGID
	}

	if id, err := strconv.ParseUint(groupPart, 10, 32); err == nil {
		owner.GID = uint32(id)
		return owner, nil
	}
	g, err := user.LookupGroup(groupPart)
	if err != nil {
		return Owner{}, fmt.Errorf("unknown group %q: %w", groupPart, err)
	}
	id, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return Owner{}, fmt.Errorf("non-numeric gid for %q: %w", groupPart, err)
	}
	owner.GID = uint32(id)
	return owner, nil
}

// NormalizeTree applies mapper to root and everything below it. The walk is
// iterative so very deep trees do not grow the stack. Entries that vanish
// mid-walk are ignored.
func NormalizeTree(ctx context.Context, p *LocalProvider, root string, mapper *MetadataMapper) (int, error) {
	rootInfo, err := p.Stat(ctx, root)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if err := ApplyMetadata(p.resolve(root), rootInfo, mapper); err != nil {
		return 0, fmt.Errorf("failed to normalize %s: %w", root, err)
	}
	count := 1
	if !rootInfo.IsDir() {
		return count, nil
	}

	stack := []string{root}
	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := p.List(ctx, dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("failed to list directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if err := ApplyMetadata(p.resolve(path), entry, mapper); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return count, fmt.Errorf("failed to normalize %s: %w", path, err)
			}
			count++
			if entry.IsDir() {
				stack = append(stack, path)
			}
		}
	}
	return count, nil
}
