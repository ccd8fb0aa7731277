// Package device provides the device registry for MIoT Core.
//
// The registry is a thin persistence layer over the devices table. It
// mirrors the configured device list together with the metadata resolved
// during adaptation (category from the capability spec type URN, effective
// control mode) so the REST API can list devices without touching the
// synchronization engine. Live state is owned by the engine sessions and
// is never written here.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//
//	// Rebuild the registry from configuration at startup.
//	for _, d := range cfg.Devices {
//	    rec := &device.Record{DID: d.DID, Name: d.Name, Model: d.Model, Mode: d.Mode}
//	    if err := repo.Upsert(ctx, rec); err != nil {
//	        return err
//	    }
//	}
//	repo.Prune(ctx, configuredDIDs)
//
//	// Query for API listings.
//	records, _ := repo.List(ctx)
//	rec, _ := repo.Get(ctx, "712345678")
//
// # Thread Safety
//
// SQLiteRepository is safe for concurrent use; it holds no state beyond
// the *sql.DB handle, which manages its own connection pool.
package device
