// Package crypto implements the connection-level handshake and bulk
// encryption: a registered 128-bit key is proven by round-tripping a
// fixed plaintext block, after which every non-empty frame body is
// wrapped with the same key in CTR mode.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const KeySize = 16 // 128-bit

// handshakeProbe is the fixed plaintext both sides encrypt and compare;
// its length matches the core's "fixed 128-byte plaintext" handshake.
var handshakeProbe = func() [128]byte {
	var b [128]byte
	for i := range b {
		b[i] = byte(i)
	}
	return b
}()

// Key wraps a 128-bit AES key and produces encrypt/decrypt streams for a
// connection. Two ends with the same key produce identical ciphertext
// for the handshake probe, proving the key match without exchanging it.
type Key struct {
	raw [KeySize]byte
}

func ParseKeyHex(s string) (*Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad crypto key hex: %w", err)
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("crypto key must be %d bytes, got %d", KeySize, len(b))
	}
	var k Key
	copy(k.raw[:], b)
	return &k, nil
}

func GenerateKey() (*Key, error) {
	var k Key
	if _, err := rand.Read(k.raw[:]); err != nil {
		return nil, err
	}
	return &k, nil
}

func (k *Key) Hex() string { return hex.EncodeToString(k.raw[:]) }

// EncryptProbe returns the handshake ciphertext this side would send.
func (k *Key) EncryptProbe(iv [aes.BlockSize]byte) ([]byte, error) {
	return k.cryptBlock(handshakeProbe[:], iv)
}

// VerifyProbe decrypts a peer's handshake blob and reports whether it
// matches the expected plaintext, i.e. whether both sides hold the same key.
func (k *Key) VerifyProbe(blob []byte, iv [aes.BlockSize]byte) (bool, error) {
	out, err := k.cryptBlock(blob, iv)
	if err != nil {
		return false, err
	}
	return string(out) == string(handshakeProbe[:]), nil
}

func (k *Key) cryptBlock(in []byte, iv [aes.BlockSize]byte) ([]byte, error) {
	block, err := aes.NewCipher(k.raw[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(in))
	stream := cipher.NewCTR(block, iv[:])
	stream.XORKeyStream(out, in)
	return out, nil
}

// Stream is a per-connection CTR keystream used to wrap every non-empty
// frame body after the handshake succeeds. Encrypt and Decrypt are the
// same XOR operation; a fresh Stream must be created per direction since
// CTR advances its counter with every call.
type Stream struct {
	stream cipher.Stream
}

func NewStream(k *Key, iv [aes.BlockSize]byte) (*Stream, error) {
	block, err := aes.NewCipher(k.raw[:])
	if err != nil {
		return nil, err
	}
	return &Stream{stream: cipher.NewCTR(block, iv[:])}, nil
}

// XORInPlace encrypts or decrypts body in place; an empty body is left
// as it is and does not advance the stream, matching the core's "empty
// bodies are not encrypted" rule.
func (s *Stream) XORInPlace(body []byte) {
	if len(body) == 0 {
		return
	}
	s.stream.XORKeyStream(body, body)
}
