// Package manifest tracks which memories have already been downloaded.
//
// The manifest is a single hidden JSON file at the destination root,
// keyed by item identity. It is loaded once per run, filtered against
// the catalog to produce the pending set, and rewritten synchronously
// after every completed item so that an interrupted run resumes with at
// most the in-flight item lost.
//
// # File format
//
//	{
//	  "version": 1,
//	  "created_at": "2025-06-01T10:30:00Z",
//	  "updated_at": "2025-06-01T11:02:13Z",
//	  "output_dir": "/home/user/memories",
//	  "entries": {
//	    "b4f2...": {"completed_at": "...", "output_path": "2023/b4f2....jpg", "size": 183021, "kind": "picture", "captured_at": "..."}
//	  }
//	}
//
// Presence of an identity implies the output file was written at the
// time of recording; the file is not re-verified on load.
package manifest
