// Package tiers provides tier-based dynamic limits loaded from a YAML
// file.
//
// # Overview
//
// A tier file maps tier names (free, pro, enterprise) to limit
// expressions, with an optional default for unknown tiers. The file is
// validated on load, can be hot-reloaded when it changes on disk, and
// plugs into admission declarations as a dynamic limit function.
//
// # File Format
//
//	default: "10 per minute"
//	tiers:
//	  free: "10 per minute; 100 per hour"
//	  pro: "100 per minute; 5000 per hour"
//	  enterprise: "1000 per minute"
//
// # Usage
//
//	store, err := tiers.NewStore("tiers.yaml", logger)
//	if err != nil {
//	    return err
//	}
//	go store.Watch(ctx)
//
//	lim.Declare("things", "create", admission.Declaration{
//	    KeyFunc:       admission.HeaderKey("X-API-Key"),
//	    DynamicLimits: store.DynamicLimits(tiers.HeaderClassifier("X-Tier", "free")),
//	})
//
// # Reload Semantics
//
// A broken file never takes effect: reload failures keep the previous
// table and log the parse error. Limit expressions are re-resolved per
// request, so a reload applies to the very next request.
//
// # Thread Safety
//
// The Store is safe for concurrent use. Table snapshots are immutable.
package tiers
