// Package jsp (JSON persistence) provides utilities to store and load
// arbitrary JSON-encoded structures with optional checksumming, used by
// config save/load.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"errors"
	"io"
	"os"
	"reflect"

	"github.com/uba-build/uba/cmn/cos"
	"github.com/uba-build/uba/cmn/debug"
	"github.com/uba-build/uba/cmn/nlog"
)

const (
	Metaver = 1 // current jsp layout version
)

func SaveMeta(filepath string, meta Opts, wto io.WriterTo) error {
	return Save(filepath, meta, meta.JspOpts(), wto)
}

func Save(filepath string, v interface{}, opts Options, wto io.WriterTo) (err error) {
	var (
		file *os.File
		tmp  = filepath + ".tmp." + cos.GenTie()
	)
	if file, err = cos.CreateFile(tmp); err != nil {
		return
	}
	defer func() {
		if err == nil {
			return
		}
		if nestedErr := cos.RemoveFile(tmp); nestedErr != nil {
			nlog.Errorf("nested (%v): failed to remove %s, err: %v", err, tmp, nestedErr)
		}
	}()
	if wto != nil && !reflect.ValueOf(wto).IsNil() {
		_, err = wto.WriteTo(file)
	} else {
		debug.Assert(v != nil)
		err = Encode(file, v, opts)
	}
	if err != nil {
		nlog.Errorf("failed to encode %s: %v", filepath, err)
		cos.Close(file)
		return
	}
	if err = cos.FlushClose(file); err != nil {
		nlog.Errorf("failed to flush and close %s: %v", tmp, err)
		return
	}
	err = os.Rename(tmp, filepath)
	return
}

func LoadMeta(filepath string, meta Opts) (*cos.Cksum, error) {
	return Load(filepath, meta, meta.JspOpts())
}

func Load(filepath string, v interface{}, opts Options) (checksum *cos.Cksum, err error) {
	var file *os.File
	file, err = os.Open(filepath)
	if err != nil {
		return
	}
	defer file.Close()
	checksum, err = Decode(file, v, opts, filepath)
	if err != nil {
		var badCksum *cos.ErrBadCksum
		if errors.As(err, &badCksum) {
			if errRm := os.Remove(filepath); errRm == nil {
				nlog.Errorf("bad checksum: removed %s", filepath)
			} else {
				nlog.Errorf("bad checksum: failed to remove %s: %v", filepath, errRm)
			}
		}
		return
	}
	return
}
