/*
Package metakit is the high-level entry point for working with metadata
images: open or create an image, and the mount walk assembles the
in-memory indexes (free space, reverse mappings, reference counts) and
the inode cache that the transactional layers below operate on.

# Quick Start

Open an image and swap two files' extents:

	fs, err := metakit.Open("meta.img", metakit.Options{})
	if err != nil {
	    log.Fatal(err)
	}
	defer fs.Close()

	_, err = fs.RunSwap(ctx, swapext.Request{Ino1: 1, Ino2: 2, Count: 4})

# Features

  - Image creation with chosen geometry (mkfs)
  - Mount-time index reconstruction from the on-disk state
  - Extent swap with up-front estimation
  - Metadata-inode registry management
  - Consistency checking
  - Counter and allocation statistics
*/
package metakit
