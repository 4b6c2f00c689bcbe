// Package framestore writes rendered frames to a directory or an S3
// bucket.
//
// Movie rendering stores every frame under a numbered name; viewers
// store snapshots of the last frame they showed. Both go through Store,
// so the same code writes locally or to S3:
//
//	store, err := framestore.Open(ctx, "s3://viz-frames/run-42")
//	if err != nil {
//	    return err
//	}
//	err = store.Put(ctx, framestore.FrameName("frame", 7), jpegBytes)
//	// s3://viz-frames/run-42/frame-00000007.jpg
package framestore
