package catalog

import (
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts a live SQL console over the catalog under
// /debug/tailsql/.
func (c *Catalog) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://catalog", c.db, &tailsql.DBOptions{
		Label: "Stream catalog",
	})

	debug.Handle("tailsql/", "SQL live debugging of the stream catalog", tsql.NewMux())
	return nil
}
