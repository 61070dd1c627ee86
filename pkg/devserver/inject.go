package devserver

import (
	"bytes"
	"fmt"
)

// ClientScriptURL is the socket.io browser client matching the server
// protocol
const ClientScriptURL = "https://cdn.socket.io/4.7.5/socket.io.min.js"

const clientTemplate = `<script src="%s"></script>
<script>
(function () {
  var socket = io({ path: "/socket.io/" });
  socket.on("reload", function () { window.location.reload(); });
  socket.on("css", function () {
    document.querySelectorAll('link[rel="stylesheet"]').forEach(function (link) {
      var url = new URL(link.href);
      url.searchParams.set("_reload", Date.now());
      link.href = url.toString();
    });
  });
  socket.on("notify", function (msg) {
    var box = document.createElement("div");
    box.textContent = msg.title + ": " + msg.message;
    box.style.cssText = "position:fixed;top:0;right:0;z-index:99999;padding:12px 16px;" +
      "background:#c0392b;color:#fff;font:13px/1.4 monospace;white-space:pre-wrap;max-width:50%%";
    document.body.appendChild(box);
    setTimeout(function () { box.remove(); }, 5000);
  });
})();
</script>
`

func clientSnippet(scriptURL string) []byte {
	return []byte(fmt.Sprintf(clientTemplate, scriptURL))
}

var closingBody = []byte("</body>")

// Inject inserts snippet before the last closing body tag, or appends it
// when the document has none
func Inject(html, snippet []byte) []byte {
	i := lastIndexFold(html, closingBody)
	if i < 0 {
		return append(append([]byte(nil), html...), snippet...)
	}
	out := make([]byte, 0, len(html)+len(snippet))
	out = append(out, html[:i]...)
	out = append(out, snippet...)
	return append(out, html[i:]...)
}

// lastIndexFold is bytes.LastIndex with ASCII case folding
func lastIndexFold(s, sep []byte) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		if bytes.EqualFold(s[i:i+len(sep)], sep) {
			return i
		}
	}
	return -1
}
