package utils

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// ReadFormFile loads an uploaded file into memory, refusing anything above limit bytes.
// The content type falls back to sniffing when the client sent none.
func ReadFormFile(fileHeader *multipart.FileHeader, limit int64) ([]byte, string, error) {
	if limit > 0 && fileHeader.Size > limit {
		return nil, "", fmt.Errorf("file %s exceeds %d bytes", fileHeader.Filename, limit)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	var r io.Reader = file
	if limit > 0 {
		r = io.LimitReader(file, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, "", fmt.Errorf("file %s exceeds %d bytes", fileHeader.Filename, limit)
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
