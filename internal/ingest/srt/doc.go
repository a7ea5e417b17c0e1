// Package srt implements SRT (Secure Reliable Transport) upload, including
// both listener-mode (Server) for accepting incoming uploads and
// caller-mode (Caller) for pulling an image from a remote SRT sender.
//
// The SRT stream ID carries the upload key and encode options in URL query
// form, for example "banner?format=gif&bit_depth=4&max_width=40".
package srt
