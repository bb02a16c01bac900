package jackrabbit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hboutemy/jackrabbit/fsys"
	"github.com/hboutemy/jackrabbit/utils"
)

// Well-known fixed identifiers. Using constants rather than generated
// ids keeps item addressing stable when a workspace's storage is copied
// between repository instances.
var (
	RootNodeID       = uuid.MustParse("cafebabe-cafe-babe-cafe-babecafebabe")
	SystemRootID     = uuid.MustParse("deadbeef-cafe-babe-cafe-babecafebabe")
	VersionStorageID = uuid.MustParse("deadbeef-face-babe-cafe-babecafebabe")
	NodeTypesID      = uuid.MustParse("deadbeef-cafe-cafe-cafe-babecafebabe")
)

// rootIDResource holds the root id as 36 chars of text, readable with
// any pager when an operator needs to inspect a repository home.
const rootIDResource = "rootUUID"

// loadRootID stamps the root id into the meta area on first start and
// verifies it on every restart.
func loadRootID(meta *fsys.Area, log utils.Logger) error {
	raw, err := meta.ReadResource(rootIDResource)
	if errors.Is(err, fsys.ErrNotExist) {
		log.Info("stamping repository root id", "id", RootNodeID)
		return meta.WriteResource(rootIDResource, []byte(RootNodeID.String()))
	}
	if err != nil {
		return err
	}
	text := strings.TrimSpace(string(raw))
	got, perr := uuid.Parse(text)
	if perr != nil || got != RootNodeID {
		return fmt.Errorf("%w: root id resource reads %q", ErrCorruptMetadata, text)
	}
	return nil
}
