package renderer

import "image"

// Letterbox returns the largest rectangle with the image's aspect ratio that
// fits a cw x ch canvas, centred on the free axis. It never crops.
func Letterbox(iw, ih, cw, ch int) image.Rectangle {
	if iw <= 0 || ih <= 0 || cw <= 0 || ch <= 0 {
		return image.Rectangle{}
	}

	// iw/ih > cw/ch without floating point.
	if iw*ch > ih*cw {
		h := (ih*cw + iw/2) / iw
		if h < 1 {
			h = 1
		}
		y := (ch - h) / 2
		return image.Rect(0, y, cw, y+h)
	}

	w := (iw*ch + ih/2) / ih
	if w < 1 {
		w = 1
	}
	x := (cw - w) / 2
	return image.Rect(x, 0, x+w, ch)
}
