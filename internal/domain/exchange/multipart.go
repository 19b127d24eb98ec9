package exchange

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
)

// ErrNotMultipart is returned by MultipartReader for requests that are not
// multipart/form-data with a boundary. As a StatusError it answers 415.
var ErrNotMultipart = &StatusError{Code: 415, Msg: "expected multipart/form-data with a boundary"}

// MultipartReader returns a reader over the parts of a multipart/form-data
// request body. Parts are streamed from the body as the handler reads them;
// nothing is buffered beyond the current part header.
func MultipartReader(r *Request) (*multipart.Reader, error) {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return nil, ErrNotMultipart
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "multipart/form-data" {
		return nil, ErrNotMultipart
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, ErrNotMultipart
	}
	return multipart.NewReader(r.Body, boundary), nil
}

// EachPart calls fn for every part of a multipart/form-data body, in order.
// fn may read the part or leave it; the rest of a part is skipped before
// the next one. The first error from fn stops the walk and is returned.
func EachPart(r *Request, fn func(p *multipart.Part) error) error {
	mr, err := MultipartReader(r)
	if err != nil {
		return err
	}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return NewStatusError(400, err)
		}
		err = fn(p)
		p.Close()
		if err != nil {
			return err
		}
	}
}
