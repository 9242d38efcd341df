package http

import "html/template"

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html>
<head><title>Transcripts - Login</title></head>
<body>
<h1>Login</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="/login?next={{.Next}}">
  <label>Username <input type="text" name="username" required></label>
  <label>Password <input type="password" name="password" required></label>
  <input type="submit" value="Login">
</form>
</body>
</html>
`))

// uploadPage asks the service for a presigned POST, then sends the file
// straight to the bucket.
var uploadPage = template.Must(template.New("upload").Parse(`<!doctype html>
<html>
<head><title>Transcripts - Upload</title></head>
<body>
<h1>Upload a recording</h1>
<p>Files are stored under the key given, e.g. <code>20240101/recordings/call.wav</code>.</p>
<input type="text" id="key" placeholder="{{.Example}}">
<input type="file" id="file">
<button id="send">Upload</button>
<p id="status"></p>
<script>
document.getElementById("send").onclick = async function () {
  const file = document.getElementById("file").files[0];
  if (!file) { return; }
  const key = document.getElementById("key").value || file.name;
  const form = new FormData();
  form.append("file-name", key);
  form.append("file-type", file.type);
  const res = await fetch("{{.Action}}", {method: "POST", body: form});
  const post = await res.json();
  const upload = new FormData();
  for (const [k, v] of Object.entries(post.fields)) { upload.append(k, v); }
  upload.append("file", file);
  const done = await fetch(post.url, {method: "POST", body: upload});
  document.getElementById("status").textContent = done.ok ? "Uploaded" : "Upload failed";
};
</script>
</body>
</html>
`))

type loginView struct {
	Next  string
	Error string
}

type uploadView struct {
	Action  string
	Example string
}
